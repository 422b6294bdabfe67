package arancel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/arancel/kit"
	"github.com/hazyhaar/arancel/tariff"
)

// ErrInvalidRequest marks a request rejected before any snapshot is read.
var ErrInvalidRequest = errors.New("arancel: invalid request")

// LookupRequest asks for the records matching a code.
type LookupRequest struct {
	Version string `json:"version,omitempty"`
	Code    string `json:"code"`
	Limit   int    `json:"limit,omitempty"`
}

// SearchRequest asks for records whose description contains every word.
type SearchRequest struct {
	Version string `json:"version,omitempty"`
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
}

// NoteRequest asks for a section note, a chapter note, or the notes of a
// code. Kind is "section", "chapter" or "code".
type NoteRequest struct {
	Version string `json:"version,omitempty"`
	Kind    string `json:"kind"`
	ID      string `json:"id"`
}

// ListRequest asks for the records of a section or chapter.
type ListRequest struct {
	Version string `json:"version,omitempty"`
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Limit   int    `json:"limit,omitempty"`
}

// VersionsRequest takes no arguments.
type VersionsRequest struct{}

// Endpoints are the read operations shared by the HTTP routes and the MCP
// tools.
type Endpoints struct {
	Lookup   kit.Endpoint
	Search   kit.Endpoint
	Note     kit.Endpoint
	List     kit.Endpoint
	Versions kit.Endpoint
}

// Endpoints builds the read endpoints, each wrapped with call logging.
func (s *Service) Endpoints() Endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(s.logger, name))(e)
	}
	return Endpoints{
		Lookup:   wrap("lookup", s.lookupEndpoint),
		Search:   wrap("search", s.searchEndpoint),
		Note:     wrap("note", s.noteEndpoint),
		List:     wrap("list", s.listEndpoint),
		Versions: wrap("versions", s.versionsEndpoint),
	}
}

func (s *Service) lookupEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*LookupRequest)
	if strings.TrimSpace(r.Code) == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	return s.Codes.Lookup(ctx, r.Version, r.Code, r.Limit)
}

func (s *Service) searchEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*SearchRequest)
	if strings.TrimSpace(r.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	return s.Codes.SearchDescription(ctx, r.Version, r.Query, r.Limit)
}

func (s *Service) noteEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*NoteRequest)
	switch r.Kind {
	case string(tariff.SectionNote):
		return s.Notes.Section(ctx, r.Version, r.ID)
	case string(tariff.ChapterNote):
		return s.Notes.Chapter(ctx, r.Version, r.ID)
	case "code":
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("%w: id is required", ErrInvalidRequest)
		}
		return s.Notes.ForCode(ctx, r.Version, r.ID)
	default:
		return nil, fmt.Errorf("%w: kind must be section, chapter or code", ErrInvalidRequest)
	}
}

func (s *Service) listEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*ListRequest)
	switch r.Kind {
	case string(tariff.SectionNote):
		return s.Codes.ListBySection(ctx, r.Version, r.ID, r.Limit)
	case string(tariff.ChapterNote):
		return s.Codes.ListByChapter(ctx, r.Version, r.ID, r.Limit)
	default:
		return nil, fmt.Errorf("%w: kind must be section or chapter", ErrInvalidRequest)
	}
}

func (s *Service) versionsEndpoint(ctx context.Context, _ any) (any, error) {
	return s.Versions(ctx)
}
