package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is the minimal logging interface the dashboard modules depend on
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Std writes info lines to one log.Logger and errors to another
type Std struct {
	Info  *log.Logger
	Error *log.Logger
}

// New returns the process logger: INFO to stdout, ERROR to stderr
func New() *Std {
	return &Std{
		Info:  log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime),
		Error: log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

func (l *Std) Infof(format string, args ...interface{}) {
	l.Info.Printf(format, args...)
}

func (l *Std) Errorf(format string, args ...interface{}) {
	l.Error.Output(2, fmt.Sprintf(format, args...))
}

// Discard drops everything; handy in tests
var Discard Logger = &Std{
	Info:  log.New(io.Discard, "", 0),
	Error: log.New(io.Discard, "", 0),
}
