package logging

import "time"

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

// Err is the conventional field for errors
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Domain shorthands used across the coordination packages.

// Session tags a log line with the session name
func Session(name string) Field {
	return Field{Key: "session", Value: name}
}

// NodeUID tags a log line with a node's unique id
func NodeUID(uid string) Field {
	return Field{Key: "node_uid", Value: uid}
}

// Stream tags a log line with a stream name
func Stream(name string) Field {
	return Field{Key: "stream", Value: name}
}
