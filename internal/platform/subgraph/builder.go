package subgraph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// Query is a compiled GraphQL document together with its variables. User
// supplied values only ever travel in Variables.
type Query struct {
	Document  string
	Variables map[string]any
}

// cidPattern accepts IPFS v0/v1 identifiers and plain path-like keys.
var cidPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]{1,128}$`)

// maxInList caps the size of any _in filter.
const maxInList = 1000

const listingFields = `
			id
			seller
			sellerTokenId
			sellerPiece
			wantsPieces
			buyer
			buyerTokenId
			buyerPiece
			type
			timestamp`

// ListingFilter selects listing events. Zero-valued fields are omitted from
// the where clause.
type ListingFilter struct {
	Type domain.ListingType
	// After selects events strictly newer than the timestamp.
	After domain.Timestamp
	// Before selects events strictly older than the timestamp.
	Before        domain.Timestamp
	Seller        string
	Buyer         string
	SellerPieceIn []string
	IDIn          []string
	First         int
	Descending    bool
}

// Build compiles the filter into a parameterized listings query.
func (f ListingFilter) Build() (Query, error) {
	b := newBuilder("Listings")

	if f.First <= 0 || f.First > maxInList {
		return Query{}, fmt.Errorf("subgraph: first must be 1-%d, got %d", maxInList, f.First)
	}
	b.arg("first", "Int!", f.First)

	switch f.Type {
	case "":
	case domain.ListingCreated, domain.ListingSwapped, domain.ListingDeleted:
		// Enum literal from a closed set; never user input.
		b.whereLiteral("type", string(f.Type))
	default:
		return Query{}, fmt.Errorf("subgraph: unknown listing type %q", f.Type)
	}

	if f.After != "" {
		if !f.After.Valid() {
			return Query{}, fmt.Errorf("subgraph: %w: %q", domain.ErrInvalidCursor, f.After)
		}
		b.where("timestamp_gt", "after", "String", string(f.After))
	}
	if f.Before != "" {
		if !f.Before.Valid() {
			return Query{}, fmt.Errorf("subgraph: %w: %q", domain.ErrInvalidCursor, f.Before)
		}
		b.where("timestamp_lt", "before", "String", string(f.Before))
	}
	if f.Seller != "" {
		addr, err := normalizeAddress(f.Seller)
		if err != nil {
			return Query{}, err
		}
		b.where("seller", "seller", "Bytes", addr)
	}
	if f.Buyer != "" {
		addr, err := normalizeAddress(f.Buyer)
		if err != nil {
			return Query{}, err
		}
		b.where("buyer", "buyer", "Bytes", addr)
	}
	if f.SellerPieceIn != nil {
		cids, err := validateCIDs(f.SellerPieceIn)
		if err != nil {
			return Query{}, err
		}
		b.where("sellerPiece_in", "sellerPieces", "[String!]", cids)
	}
	if f.IDIn != nil {
		ids, err := validateListingIDs(f.IDIn)
		if err != nil {
			return Query{}, err
		}
		b.where("id_in", "ids", "[ID!]", ids)
	}

	dir := "asc"
	if f.Descending {
		dir = "desc"
	}
	return b.build("listings", "orderBy: timestamp, orderDirection: "+dir, listingFields)
}

// TransferFilter selects piece transfer events for the poller.
type TransferFilter struct {
	After domain.Timestamp
	Type  string
	First int
}

// Build compiles the filter into a parameterized transfers query.
func (f TransferFilter) Build() (Query, error) {
	b := newBuilder("Transfers")
	if f.First <= 0 || f.First > maxInList {
		return Query{}, fmt.Errorf("subgraph: first must be 1-%d, got %d", maxInList, f.First)
	}
	b.arg("first", "Int!", f.First)

	after := f.After
	if after == "" {
		after = domain.MinTimestamp
	}
	if !after.Valid() {
		return Query{}, fmt.Errorf("subgraph: %w: %q", domain.ErrInvalidCursor, after)
	}
	b.where("timestamp_gt", "after", "String!", string(after))

	if f.Type != "" {
		b.where("type", "type", "String!", f.Type)
	}

	return b.build("transfers", "orderBy: timestamp, orderDirection: asc", `
			id
			from
			to
			tokenId
			type
			timestamp`)
}

// builder accumulates variable definitions and where-clause entries in a
// deterministic order.
type builder struct {
	name  string
	defs  []string
	args  []string
	conds []string
	vars  map[string]any
}

func newBuilder(name string) *builder {
	return &builder{name: name, vars: make(map[string]any)}
}

func (b *builder) arg(name, typ string, value any) {
	b.defs = append(b.defs, fmt.Sprintf("$%s: %s", name, typ))
	b.args = append(b.args, fmt.Sprintf("%s: $%s", name, name))
	b.vars[name] = value
}

func (b *builder) where(field, name, typ string, value any) {
	b.defs = append(b.defs, fmt.Sprintf("$%s: %s", name, typ))
	b.conds = append(b.conds, fmt.Sprintf("%s: $%s", field, name))
	b.vars[name] = value
}

func (b *builder) whereLiteral(field, enum string) {
	b.conds = append(b.conds, fmt.Sprintf("%s: %s", field, enum))
}

func (b *builder) build(entity, order, fields string) (Query, error) {
	args := append([]string{}, b.args...)
	args = append(args, order)
	if len(b.conds) > 0 {
		args = append(args, "where: { "+strings.Join(b.conds, ", ")+" }")
	}

	doc := fmt.Sprintf("query %s(%s) {\n\t\t%s(%s) {%s\n\t\t}\n\t}",
		b.name, strings.Join(b.defs, ", "), entity, strings.Join(args, ", "), fields)

	q := Query{Document: doc, Variables: b.vars}
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

// Validate parses the document and checks that the declared variables and
// the supplied variables match exactly.
func (q Query) Validate() error {
	doc, err := parser.ParseQuery(&ast.Source{Name: "subgraph", Input: q.Document})
	if err != nil {
		return fmt.Errorf("subgraph: parse query: %w", err)
	}
	if len(doc.Operations) != 1 {
		return fmt.Errorf("subgraph: expected one operation, got %d", len(doc.Operations))
	}

	declared := make(map[string]bool)
	for _, v := range doc.Operations[0].VariableDefinitions {
		declared[v.Variable] = true
		if _, ok := q.Variables[v.Variable]; !ok && v.Type.NonNull {
			return fmt.Errorf("subgraph: missing value for $%s", v.Variable)
		}
	}
	var extra []string
	for name := range q.Variables {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("subgraph: undeclared variables %v", extra)
	}
	return nil
}

func normalizeAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("subgraph: %w: address %q", domain.ErrInvalidParams, s)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

func validateCIDs(cids []string) ([]string, error) {
	if len(cids) > maxInList {
		return nil, fmt.Errorf("subgraph: %w: %d cids exceeds %d", domain.ErrInvalidParams, len(cids), maxInList)
	}
	out := make([]string, 0, len(cids))
	for _, c := range cids {
		if !cidPattern.MatchString(c) {
			return nil, fmt.Errorf("subgraph: %w: cid %q", domain.ErrInvalidParams, c)
		}
		out = append(out, c)
	}
	return out, nil
}

func validateListingIDs(ids []string) ([]string, error) {
	if len(ids) > maxInList {
		return nil, fmt.Errorf("subgraph: %w: %d ids exceeds %d", domain.ErrInvalidParams, len(ids), maxInList)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		seller, token, ok := strings.Cut(id, "-")
		if !ok || !common.IsHexAddress(seller) || token == "" || !allDigits(token) {
			return nil, fmt.Errorf("subgraph: %w: listing id %q", domain.ErrInvalidParams, id)
		}
		out = append(out, domain.ListingID(seller, token))
	}
	return out, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
