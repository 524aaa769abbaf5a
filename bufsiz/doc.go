// Package bufsiz adjusts the transfer buffer size of the Linux spidev driver.
//
// spidev copies every transfer through an internal buffer whose size is the
// bufsiz module parameter (4096 bytes unless configured). A single write
// larger than that fails with EMSGSIZE, so a full frame can only be sent once
// the parameter is at least as large as the frame.
//
// The parameter is read-only at runtime. The only way to change it without a
// reboot is to reload the module:
//
//	$ cat /sys/module/spidev/parameters/bufsiz
//	4096
//	$ rmmod spidev
//	$ modprobe spidev bufsiz=7868
//
// Controller.EnsureBufferSize runs this sequence:
//
//  1. read /sys/module/spidev/parameters/bufsiz; done if it matches
//  2. modinfo -F filename spidev; fail with *ImmutableError if the module is
//     built into the kernel
//  3. lsmod, then rmmod spidev if it is loaded
//  4. modprobe spidev bufsiz=N
//  5. read the parameter again; fail with *VerifyError if it differs
//
// Steps 2 to 4 need root. Each step that can fail has its own error type.
//
// Example usage:
//
//	ctrl := bufsiz.NewController(logger)
//	if err := ctrl.EnsureBufferSize(ctx, 7868); err != nil {
//		var immutable *bufsiz.ImmutableError
//		if errors.As(err, &immutable) {
//			// needs spidev.bufsiz=7868 on the kernel command line
//		}
//		return err
//	}
package bufsiz
