package logging

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SourceFormatter adds the caller's base file name and line as x_file_source
// before delegating to the wrapped formatter.
type SourceFormatter struct {
	Underlying logrus.Formatter
}

// Format renders a single log entry.
func (f *SourceFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.HasCaller() {
		entry.Data["x_file_source"] = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	return f.Underlying.Format(entry)
}
