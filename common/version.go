package common

const PackageName = "github.com/cloq-dev/cloq"

// Version is set at build time via -ldflags "-X github.com/cloq-dev/cloq/common.Version=..."
var Version = "dev"
