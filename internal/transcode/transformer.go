package transcode

// NewTransformer returns the codec backend selected at build time:
// govips when the govips and cgo tags are set, the stdlib backend
// otherwise.
func NewTransformer() (Transformer, error) {
	return newTransformer()
}
