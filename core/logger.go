package core

// Logger is any leveled logger. args may carry errors, maps of extra data, or a Person.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the user an error report is attributed to.
type Person struct {
	ID    string
	Email string
}
