// Package bulletin reads the daily Boletín Oficial index and flattens its
// power → type → organization grouping into norm records.
package bulletin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/boletin-cli/internal/fetcher"
	"github.com/sells-group/boletin-cli/internal/model"
)

// DefaultIndexURL serves the index of the latest published bulletin.
const DefaultIndexURL = "https://api-restboletinoficial.buenosaires.gob.ar/obtenerBoletin/0/true"

// Index is a decoded bulletin: its date key and flattened norms.
type Index struct {
	Date        string
	DisplayDate string
	Number      string
	Norms       []model.Norm
}

// Client fetches the bulletin index.
type Client struct {
	fetcher  fetcher.Fetcher
	indexURL string
}

// NewClient creates a Client. An empty indexURL selects DefaultIndexURL.
func NewClient(f fetcher.Fetcher, indexURL string) *Client {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	return &Client{fetcher: f, indexURL: indexURL}
}

// Fetch downloads and decodes the current index.
func (c *Client) Fetch(ctx context.Context) (*Index, error) {
	body, err := c.fetcher.Download(ctx, c.indexURL)
	if err != nil {
		return nil, eris.Wrap(err, "bulletin: fetch index")
	}
	defer body.Close() //nolint:errcheck

	idx, err := Decode(body)
	if err != nil {
		return nil, err
	}

	zap.L().Info("bulletin: index fetched",
		zap.String("date", idx.Date),
		zap.String("number", idx.Number),
		zap.Int("norms", len(idx.Norms)),
	)
	return idx, nil
}

type rawIndex struct {
	Boletin struct {
		FechaPublicacion string     `json:"fecha_publicacion"`
		Numero           flexString `json:"numero"`
	} `json:"boletin"`
	Normas struct {
		Normas map[string]map[string]map[string][]rawEntry `json:"normas"`
	} `json:"normas"`
}

type rawEntry struct {
	Nombre   string     `json:"nombre"`
	Sumario  string     `json:"sumario"`
	URLNorma string     `json:"url_norma"`
	Anexos   []rawAnnex `json:"anexos"`
}

type rawAnnex struct {
	Nombre string `json:"nombre"`
	URL    string `json:"url"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Decode parses an index document. Entries without a document URL are
// skipped and repeated URLs keep their first occurrence. Norms are ordered
// by power, type and organization key, then by position in the source.
func Decode(r io.Reader) (*Index, error) {
	raw, err := fetcher.DecodeJSONObject[rawIndex](r)
	if err != nil {
		return nil, eris.Wrap(err, "bulletin: decode index")
	}

	display := strings.TrimSpace(raw.Boletin.FechaPublicacion)
	date, err := ParseDisplayDate(display)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		Date:        date,
		DisplayDate: display,
		Number:      strings.TrimSpace(string(raw.Boletin.Numero)),
		Norms:       []model.Norm{},
	}

	seen := make(map[string]struct{})
	for _, power := range sortedKeys(raw.Normas.Normas) {
		types := raw.Normas.Normas[power]
		for _, typ := range sortedKeys(types) {
			orgs := types[typ]
			for _, org := range sortedKeys(orgs) {
				for _, e := range orgs[org] {
					url := strings.TrimSpace(e.URLNorma)
					if url == "" {
						continue
					}
					if _, dup := seen[url]; dup {
						continue
					}
					seen[url] = struct{}{}
					idx.Norms = append(idx.Norms, toNorm(e, url, power, typ, org))
				}
			}
		}
	}

	return idx, nil
}

func toNorm(e rawEntry, url, power, typ, org string) model.Norm {
	n := model.Norm{
		URL:          url,
		Title:        strings.TrimSpace(e.Nombre),
		Summary:      strings.TrimSpace(e.Sumario),
		Power:        strings.TrimSpace(power),
		Type:         strings.TrimSpace(typ),
		Organization: NormalizeOrganization(org),
		Outcome:      model.Outcome{Status: model.OutcomeUnprocessed},
	}
	taken := make(map[string]struct{}, len(e.Anexos))
	for _, a := range e.Anexos {
		u := strings.TrimSpace(a.URL)
		if u == "" {
			continue
		}
		name := strings.TrimSpace(a.Nombre)
		if name == "" {
			name = u
		}
		name = uniqueName(taken, name)
		n.Attachments = append(n.Attachments, model.Attachment{Name: name, URL: u})
	}
	return n
}

// uniqueName returns name, or name with the first free " (k)" suffix, and
// records the result in taken. Attachments are identified by name within
// their norm, so repeated names must not collide.
func uniqueName(taken map[string]struct{}, name string) string {
	candidate := name
	for k := 2; ; k++ {
		if _, ok := taken[candidate]; !ok {
			break
		}
		candidate = fmt.Sprintf("%s (%d)", name, k)
	}
	taken[candidate] = struct{}{}
	return candidate
}

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeOrganization canonicalizes an organization name for use as a
// grouping key: NFC form, collapsed whitespace, no trailing separators.
func NormalizeOrganization(s string) string {
	s = norm.NFC.String(s)
	s = spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.TrimSpace(strings.TrimRight(s, "-–—,;:. "))
}

var displayLayouts = []string{"02/01/2006", "2/1/2006", "2006-01-02"}

// ParseDisplayDate converts the bulletin's publication date (dd/mm/yyyy,
// optionally followed by a time, or ISO) into its yyyy-mm-dd key.
func ParseDisplayDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i > 0 {
		s = s[:i]
	}
	for _, layout := range displayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", eris.Errorf("bulletin: unrecognized publication date %q", s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
