package cstore

import "os"

// SessionFile exposes the data file of a write session.
func SessionFile(s *WriteSession) *os.File { return s.f }
