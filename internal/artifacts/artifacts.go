package artifacts

import _ "embed"

// Store artifacts

//go:embed defaults/settings.yaml
var DefaultSettings []byte
