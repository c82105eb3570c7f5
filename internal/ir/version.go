package ir

// Version is the SnapGuard release version.
const Version = "0.1.0"
