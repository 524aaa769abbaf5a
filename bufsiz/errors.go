package bufsiz

import "fmt"

// ReadError is returned when the parameter file cannot be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("bufsiz: failed to read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ParseError is returned when the parameter file does not hold an unsigned
// 16 bit integer.
type ParseError struct {
	Path  string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bufsiz: %s holds %q, not a buffer size: %v", e.Path, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnloadError is returned when the module could not be removed. Diagnostic
// holds what the tool printed on stderr.
type UnloadError struct {
	Module     string
	Diagnostic string
	Err        error
}

func (e *UnloadError) Error() string {
	return fmt.Sprintf("bufsiz: failed to unload %s module: %s", e.Module, diagnostic(e.Diagnostic, e.Err))
}

func (e *UnloadError) Unwrap() error { return e.Err }

// LoadError is returned when the module could not be inserted. Diagnostic
// holds what the tool printed on stderr.
type LoadError struct {
	Module     string
	Diagnostic string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("bufsiz: failed to load %s module: %s", e.Module, diagnostic(e.Diagnostic, e.Err))
}

func (e *LoadError) Unwrap() error { return e.Err }

// ImmutableError is returned when the buffer size is wrong and the module is
// not loadable: either it is built into the kernel, so its parameters only
// change through the kernel command line and a reboot, or it does not exist.
// Known is false if the current size could not be read.
type ImmutableError struct {
	Module  string
	Current uint16
	Known   bool
	Target  uint16
}

func (e *ImmutableError) Error() string {
	if !e.Known {
		return fmt.Sprintf("bufsiz: %s is neither loaded nor available as a loadable module", e.Module)
	}
	return fmt.Sprintf(
		"bufsiz: %s.bufsiz is %d, need %d, and %s is not a loadable module; set %s.bufsiz=%d on the kernel command line",
		e.Module, e.Current, e.Target, e.Module, e.Module, e.Target)
}

// VerifyError is returned when the module was reloaded without error but
// still reports a different buffer size.
type VerifyError struct {
	Module string
	Want   uint16
	Got    uint16
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("bufsiz: reloaded %s with bufsiz=%d but it reports %d", e.Module, e.Want, e.Got)
}

func diagnostic(stderr string, err error) string {
	if stderr != "" {
		return stderr
	}
	return err.Error()
}
