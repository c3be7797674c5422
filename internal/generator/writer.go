package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	accountsFile  = "accounts.json"
	transfersFile = "transfers.json"
)

// ErrMissingWorkload is returned when a workload directory lacks a file.
var ErrMissingWorkload = errors.New("workload file not found")

// WriteWorkload serializes the workload into accounts.json and transfers.json under the provided directory.
func WriteWorkload(workload Workload, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, accountsFile), workload.Accounts); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, transfersFile), workload.Transfers); err != nil {
		return err
	}
	return nil
}

// ReadAccounts loads accounts.json from dir.
func ReadAccounts(dir string) ([]AccountSeed, error) {
	var accounts []AccountSeed
	if err := readJSON(filepath.Join(dir, accountsFile), &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ReadWorkload loads both files written by WriteWorkload and checks that every
// transfer points at a seeded account.
func ReadWorkload(dir string) (Workload, error) {
	accounts, err := ReadAccounts(dir)
	if err != nil {
		return Workload{}, err
	}
	var transfers []TransferSpec
	if err := readJSON(filepath.Join(dir, transfersFile), &transfers); err != nil {
		return Workload{}, err
	}
	for i, tr := range transfers {
		if tr.From < 0 || tr.From >= len(accounts) || tr.To < 0 || tr.To >= len(accounts) {
			return Workload{}, fmt.Errorf("transfer %d references account outside 0..%d", i, len(accounts)-1)
		}
	}
	return Workload{Accounts: accounts, Transfers: transfers}, nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, target any) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMissingWorkload, path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
