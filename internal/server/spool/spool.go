// Package spool holds partially received attachment files until their last
// chunk arrives. Chunks are written at their declared offset, so a transfer
// resumed from an earlier offset simply overwrites bytes already present.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Spool is a directory of partial attachment files, one per case/element.
type Spool struct {
	root string
}

// New creates the spool directory if needed.
func New(root string) (*Spool, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{root: root}, nil
}

// path maps a case/element pair to a file path. Identifiers come from the
// request URL, so anything that could escape the spool root is rejected.
func (s *Spool) path(caseGUID, elementID string) (string, error) {
	for _, part := range []string{caseGUID, elementID} {
		if part == "" || strings.ContainsAny(part, `/\`) || strings.Contains(part, "..") {
			return "", fmt.Errorf("unsafe spool identifier %q", part)
		}
	}
	return filepath.Join(s.root, caseGUID+"_"+elementID), nil
}

// WriteAt writes data at offset, creating the file on first use.
func (s *Spool) WriteAt(caseGUID, elementID string, offset int64, data []byte) error {
	path, err := s.path(caseGUID, elementID)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write spool file: %w", err)
	}
	return nil
}

// Open returns the spool file for reading.
func (s *Spool) Open(caseGUID, elementID string) (*os.File, error) {
	path, err := s.path(caseGUID, elementID)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes the spool file. Removing an absent file is not an error.
func (s *Spool) Remove(caseGUID, elementID string) error {
	path, err := s.path(caseGUID, elementID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spool file: %w", err)
	}
	return nil
}
