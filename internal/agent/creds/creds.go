// Package creds stores the dispatch server credentials on disk so the agent
// can authenticate unattended after a restart.
package creds

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fieldline/casesync/internal/agent/mds"
	"github.com/fieldline/casesync/internal/common"
)

type fileFormat struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Load reads credentials from path. A missing file returns
// common.ErrNotFound so the caller can prompt for a login.
func Load(path string) (mds.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return mds.Credentials{}, common.ErrNotFound
		}
		return mds.Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return mds.Credentials{}, fmt.Errorf("parse credentials file: %w", err)
	}
	return mds.Credentials{Username: f.Username, Password: f.Password}, nil
}

// Save writes credentials to path, readable by the owner only.
func Save(path string, c mds.Credentials) error {
	data, err := json.MarshalIndent(fileFormat{Username: c.Username, Password: c.Password}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	return nil
}
