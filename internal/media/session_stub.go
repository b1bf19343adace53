//go:build !linux

package media

// NewSession is unavailable off Linux; callers fall back to NoOpSession.
func NewSession() (Session, error) {
	return nil, ErrUnsupported
}
