// Package logx wraps zerolog for tickd.
//
// Logger is a value type: copy it, derive with With or Named, and keep it in
// structs. Loggers obtained from a Service follow Service.Apply, so a config
// reload changes level and sinks under every component at once. Console
// output is human readable; the file sink is JSON.
package logx
