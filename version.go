package openidstore

// Version is the release version reported by the command line tools.
const Version = "0.1.0"
