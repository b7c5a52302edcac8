package netmangle

// Version is set at build time via ldflags.
var Version = "git"
