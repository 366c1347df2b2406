package proxy

import _ "embed"

// placeholderPNG is a small neutral image served under the placeholder
// fallback policy so broken upstreams never surface as broken-image
// icons.
//
//go:embed assets/placeholder.png
var placeholderPNG []byte

const placeholderContentType = "image/png"
