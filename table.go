package cstore

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// FooterPath returns the path of the footer file of a table.
func FooterPath(path string) string { return path + FooterSuffix }

// ReadFooter reads and validates the footer file of a table.
func ReadFooter(path string) (*Footer, error) {
	fpath := FooterPath(path)
	data, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}

	footer := new(Footer)
	if err := footer.UnmarshalBinary(data); err != nil {
		return nil, withPath(err, fpath)
	}
	return footer, nil
}

// writeFooter replaces the footer file atomically.
func writeFooter(path string, footer *Footer) error {
	data, err := footer.MarshalBinary()
	if err != nil {
		return err
	}

	fpath := FooterPath(path)
	tmp := fpath + tempSuffix

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, fpath)
}

// CreateTable initializes an empty table: a data file holding only the
// header and a footer without stripes.
func CreateTable(path string, o *WriterOptions) error {
	o = o.norm()
	if err := o.validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr := append(append(make([]byte, 0, headerSize), magic...), versionMajor, versionMinor)
	if _, err := f.Write(hdr); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return writeFooter(path, &Footer{BlockRowCount: o.BlockRowCount})
}

// TableSize returns the combined size of the data and footer files.
func TableSize(path string) (int64, error) {
	var size int64
	for _, name := range []string{path, FooterPath(path)} {
		fi, err := os.Stat(name)
		if err != nil {
			return 0, err
		}
		size += fi.Size()
	}
	return size, nil
}

// DeleteTable removes the data and footer files of a table. Failures are
// logged as warnings only.
func DeleteTable(path string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, name := range []string{path, FooterPath(path)} {
		if err := os.Remove(name); err != nil {
			logger.Warn("could not delete table file", zap.String("path", name), zap.Error(err))
		}
	}
}

// --------------------------------------------------------------------

// WriteSession writes rows to the file pair of a table.
type WriteSession struct {
	path string
	f    *os.File
	w    *Writer
	o    *WriterOptions
}

// BeginWrite opens a write session. If the table already has a footer, new
// stripes are appended after its last sealed stripe, otherwise a new data
// file is created. Options are validated before any file is touched.
func BeginWrite(path string, schema Schema, o *WriterOptions) (*WriteSession, error) {
	o = o.norm()
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}

	footer, err := ReadFooter(path)
	if errors.Is(err, os.ErrNotExist) {
		footer = nil
	} else if err != nil {
		return nil, err
	}

	var f *os.File
	var offset int64
	if footer == nil {
		if f, err = os.Create(path); err != nil {
			return nil, err
		}
	} else {
		if f, offset, err = openForAppend(path, footer, schema); err != nil {
			return nil, err
		}
	}

	w, err := NewWriter(f, offset, footer, schema, o)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &WriteSession{path: path, f: f, w: w, o: o}, nil
}

func openForAppend(path string, footer *Footer, schema Schema) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, 0, err
	}

	fail := func(err error) (*os.File, int64, error) {
		_ = f.Close()
		return nil, 0, err
	}

	if err := checkHeader(f); err != nil {
		return fail(withPath(err, path))
	}

	end := footer.DataEnd()
	fi, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if fi.Size() < end {
		return fail(&FormatError{Path: path, Offset: fi.Size(), Err: ErrCorrupt})
	}
	if err := footer.validate(fi.Size()); err != nil {
		return fail(withPath(err, path))
	}

	if len(footer.Stripes) != 0 {
		sf, err := readStripeFooter(f, footer.Stripes[0])
		if err != nil {
			return fail(withPath(err, path))
		}
		if n := sf.ColumnCount(); n != len(schema) {
			return fail(&ConfigError{Option: "schema", Value: len(schema), Hint: fmt.Sprintf("table has %d columns", n)})
		}
	}

	if err := f.Truncate(end); err != nil {
		return fail(err)
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		return fail(err)
	}
	return f, end, nil
}

// WriteRow appends a row, see Writer.WriteRow.
func (s *WriteSession) WriteRow(values []interface{}, nulls []bool) error {
	return s.w.WriteRow(values, nulls)
}

// Footer returns the footer listing the stripes sealed so far.
func (s *WriteSession) Footer() *Footer { return s.w.Footer() }

// Close flushes the last stripe and writes the footer. If the session
// failed, the data file is truncated after the last sealed stripe and the
// footer lists sealed stripes only; the original error is returned.
func (s *WriteSession) Close() error {
	if s.f == nil {
		return errClosed
	}
	f := s.f
	s.f = nil

	if err := s.w.Close(); err != nil {
		footer := s.w.Footer()
		s.o.Logger.Warn("write failed, truncating to last sealed stripe",
			zap.String("path", s.path),
			zap.Int64("offset", footer.DataEnd()),
			zap.Error(err))

		_ = f.Close()
		if terr := os.Truncate(s.path, footer.DataEnd()); terr != nil {
			s.o.Logger.Warn("could not truncate data file", zap.String("path", s.path), zap.Error(terr))
		}
		if ferr := writeFooter(s.path, footer); ferr != nil {
			s.o.Logger.Warn("could not write footer", zap.String("path", s.path), zap.Error(ferr))
		}
		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return writeFooter(s.path, s.w.Footer())
}

// --------------------------------------------------------------------

// ReadSession reads rows from the file pair of a table. Re-scanning
// requires a new session.
type ReadSession struct {
	path string
	f    *os.File
	r    *Reader
}

// BeginRead opens a read session, see NewReader.
func BeginRead(path string, schema Schema, projected []int, preds []Predicate, o *ReaderOptions) (*ReadSession, error) {
	footer, err := ReadFooter(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r, err := NewReader(f, stat.Size(), footer, schema, projected, preds, o)
	if err != nil {
		_ = f.Close()
		return nil, withPath(err, path)
	}
	return &ReadSession{path: path, f: f, r: r}, nil
}

// Footer returns the table footer.
func (s *ReadSession) Footer() *Footer { return s.r.Footer() }

// ReadNextRow reads the next row, see Reader.ReadNextRow.
func (s *ReadSession) ReadNextRow(values []interface{}, nulls []bool) (bool, error) {
	ok, err := s.r.ReadNextRow(values, nulls)
	if err != nil {
		return false, withPath(err, s.path)
	}
	return ok, nil
}

// LoadSkipList reads the skip list of the n-th stripe.
func (s *ReadSession) LoadSkipList(n int) (*SkipList, *StripeFooter, error) {
	sl, sf, err := s.r.LoadSkipList(n)
	if err != nil {
		return nil, nil, withPath(err, s.path)
	}
	return sl, sf, nil
}

// Close closes the session and its data file.
func (s *ReadSession) Close() error {
	if s.f == nil {
		return errClosed
	}
	_ = s.r.Close()
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return fmt.Errorf("cstore: close %s: %w", s.path, err)
	}
	return nil
}
