// Package roster turns an uploaded employee CSV into the deduplicated set of
// accounts to provision.
package roster

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/password"
)

const (
	colEmail     = "email"
	colFirstName = "first_name"
	colLastName  = "last_name"
	colPassword  = "password"
)

// Roster is the email-keyed result of parsing one upload. Records keep the
// position of the first row that carried an email and the values of the last.
type Roster struct {
	order   []string
	byEmail map[string]model.UserRecord
	skipped int
	weak    int
}

func (r *Roster) Len() int { return len(r.order) }

// Skipped is the number of data rows dropped as unreadable or without a valid email.
func (r *Roster) Skipped() int { return r.skipped }

// WeakPasswords counts rows whose supplied password misses the generated
// policy. Such rows are kept; the provider has the final say.
func (r *Roster) WeakPasswords() int { return r.weak }

func (r *Roster) Get(email string) (model.UserRecord, bool) {
	u, ok := r.byEmail[email]
	return u, ok
}

func (r *Roster) Emails() []string {
	return append([]string(nil), r.order...)
}

// Records returns the users in parse order.
func (r *Roster) Records() []model.UserRecord {
	out := make([]model.UserRecord, 0, len(r.order))
	for _, e := range r.order {
		out = append(out, r.byEmail[e])
	}
	return out
}

// Map returns a copy of the email to record mapping.
func (r *Roster) Map() map[string]model.UserRecord {
	out := make(map[string]model.UserRecord, len(r.byEmail))
	for k, v := range r.byEmail {
		out[k] = v
	}
	return out
}

func (r *Roster) put(u model.UserRecord) {
	if _, ok := r.byEmail[u.Email]; !ok {
		r.order = append(r.order, u.Email)
	}
	r.byEmail[u.Email] = u
}

// Parse reads raw CSV text. It never fails: an unreadable payload or one
// without an email column yields an empty roster.
func Parse(raw string) *Roster {
	r := &Roster{byEmail: map[string]model.UserRecord{}}

	text, _, err := transform.String(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return r
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return r
	}
	cols := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	if _, ok := cols[colEmail]; !ok {
		return r
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.skipped++
			continue
		}

		email := NormalizeEmail(field(row, colEmail))
		if !ValidEmail(email) {
			r.skipped++
			continue
		}

		u := model.UserRecord{
			Email:     email,
			FirstName: norm.NFC.String(field(row, colFirstName)),
			LastName:  norm.NFC.String(field(row, colLastName)),
			Password:  field(row, colPassword),
		}
		if u.Password == "" {
			u.Password = password.Generate()
			u.PasswordGenerated = true
		} else if password.Validate(u.Password) != nil {
			r.weak++
		}
		r.put(u)
	}
	return r
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail requires exactly one '@' with something on both sides and no
// embedded whitespace.
func ValidEmail(s string) bool {
	if s == "" || strings.Count(s, "@") != 1 || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	local, domain, _ := strings.Cut(s, "@")
	return local != "" && domain != ""
}
