// Package seed reads the bootstrap data set: menu items and known customers.
package seed

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-delivery/internal/domain/catalog"
	"github.com/xenking/oolio-delivery/internal/domain/order"
)

// Data is the decoded seed file.
type Data struct {
	Items []catalog.Item
	Users []order.Owner
}

type fileJSON struct {
	Items []itemJSON `json:"items"`
	Users []userJSON `json:"users"`
}

type itemJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Available   *bool           `json:"available"`
}

type userJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LoadFile reads a seed file. Files ending in .gz are decompressed.
func LoadFile(path string) (*Data, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "open seed file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return Decode(r)
}

// Decode parses seed JSON from r. Items default to available.
func Decode(r io.Reader) (*Data, error) {
	var raw fileJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode seed JSON")
	}

	data := &Data{
		Items: make([]catalog.Item, 0, len(raw.Items)),
		Users: make([]order.Owner, 0, len(raw.Users)),
	}
	seen := make(map[string]struct{}, len(raw.Items))
	for i, it := range raw.Items {
		if it.ID == "" || it.Name == "" {
			return nil, errors.Errorf("item %d: id and name are required", i)
		}
		if it.Price.IsNegative() {
			return nil, errors.Errorf("item %q: negative price", it.ID)
		}
		if _, dup := seen[it.ID]; dup {
			return nil, errors.Errorf("item %q: duplicate id", it.ID)
		}
		seen[it.ID] = struct{}{}

		available := true
		if it.Available != nil {
			available = *it.Available
		}
		data.Items = append(data.Items, catalog.Item{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Category:    it.Category,
			Price:       it.Price,
			Image:       it.Image,
			Available:   available,
		})
	}
	for i, u := range raw.Users {
		if u.ID == "" {
			return nil, errors.Errorf("user %d: id is required", i)
		}
		data.Users = append(data.Users, order.Owner{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return data, nil
}
