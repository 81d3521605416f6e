package ir

// ClientVersion is the retrosync client version reported by the CLI.
const ClientVersion = "0.1.0"
