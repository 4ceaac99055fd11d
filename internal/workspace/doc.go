// Package workspace connects the resolver to caller-owned workspace state:
// the .codexd.json config file found above a working directory, and the
// optional external workspace service that knows which project is active.
//
// Both sources are advisory. A missing or malformed config file and any
// integration failure degrade to "no result"; neither ever fails a
// resolution.
package workspace
