package storage

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

type LocalSource struct {
	path       string
	size       int64
	fileHandle *os.File
}

type LocalSourceOpts struct {
	Path string
}

func NewLocalSource(opts LocalSourceOpts) (*LocalSource, error) {
	fileHandle, err := os.Open(opts.Path)
	if err != nil {
		return nil, err
	}

	fi, err := fileHandle.Stat()
	if err != nil {
		fileHandle.Close()
		return nil, fmt.Errorf("unable to stat <%s>: %w", opts.Path, err)
	}
	if fi.IsDir() {
		fileHandle.Close()
		return nil, fmt.Errorf("<%s> is a directory", opts.Path)
	}

	if err := adviseSequential(fileHandle); err != nil {
		log.Debug().Err(err).Str("path", opts.Path).Msg("fadvise failed")
	}

	return &LocalSource{
		path:       opts.Path,
		size:       fi.Size(),
		fileHandle: fileHandle,
	}, nil
}

func (s *LocalSource) ReadAt(dest []byte, off int64) (int, error) {
	if s.fileHandle == nil {
		return 0, os.ErrClosed
	}
	return s.fileHandle.ReadAt(dest, off)
}

func (s *LocalSource) Size() int64 {
	return s.size
}

func (s *LocalSource) Name() string {
	return s.path
}

func (s *LocalSource) CanSeek() bool {
	return true
}

func (s *LocalSource) Close() error {
	if s.fileHandle == nil {
		return nil
	}
	err := s.fileHandle.Close()
	s.fileHandle = nil
	return err
}
