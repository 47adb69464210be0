package filters

import (
	"relaynet/internal/wire"
)

// MaxGetCFiltersResponses caps one getcfilters request; a wider range is
// truncated, not rejected.
const MaxGetCFiltersResponses = 2000

// CheckpointInterval is the height spacing of cfcheckpt entries.
const CheckpointInterval = 1000

// Server answers the three filter request messages from a Service.
type Server struct {
	svc *Service
}

// NewServer wraps svc.
func NewServer(svc *Service) *Server { return &Server{svc: svc} }

// ServeGetCFilters yields one cfilter per height in the requested range,
// bounded to MaxGetCFiltersResponses. Responses stream through yield so a
// wide range is never materialized at once; a yield error stops the
// sequence.
func (s *Server) ServeGetCFilters(req *wire.GetCFiltersMsg, yield func(*wire.CFilterMsg) error) error {
	if req.FilterType != BasicFilterType {
		return ErrUnsupportedFilterType
	}
	stopHeight, ok := s.svc.chain.HeightOf(req.StopHash)
	if !ok {
		return ErrUnknownBlock
	}
	if stopHeight < req.StartHeight {
		return nil
	}
	end := stopHeight
	if end-req.StartHeight+1 > MaxGetCFiltersResponses {
		end = req.StartHeight + MaxGetCFiltersResponses - 1
	}
	for h := req.StartHeight; h <= end; h++ {
		filter, blockHash, err := s.svc.filterAt(h)
		if err != nil {
			return err
		}
		msg := &wire.CFilterMsg{
			FilterType: BasicFilterType,
			BlockHash:  blockHash,
			Filter:     filter,
		}
		if err := yield(msg); err != nil {
			return err
		}
	}
	return nil
}

// ServeGetCFHeaders returns the filter-header chain material for the
// requested range: the predecessor header plus per-height filter hashes.
func (s *Server) ServeGetCFHeaders(req *wire.GetCFHeadersMsg) (*wire.CFHeadersMsg, error) {
	if req.FilterType != BasicFilterType {
		return nil, ErrUnsupportedFilterType
	}
	hashes, prev, err := s.svc.GetFilterHeadersRange(req.StartHeight, req.StopHash)
	if err != nil {
		return nil, err
	}
	return &wire.CFHeadersMsg{
		FilterType:   BasicFilterType,
		StopHash:     req.StopHash,
		PrevHeader:   prev,
		FilterHashes: hashes,
	}, nil
}

// FilterFor returns the basic filter for a single block, generating it on
// demand when uncached.
func (s *Server) FilterFor(blockHash wire.Hash) ([]byte, bool) {
	height, ok := s.svc.chain.HeightOf(blockHash)
	if !ok {
		return nil, false
	}
	f, _, err := s.svc.filterAt(height)
	if err != nil {
		return nil, false
	}
	return f, true
}

// ServeGetCFCheckpt returns filter headers sampled every
// CheckpointInterval blocks up to the stop hash.
func (s *Server) ServeGetCFCheckpt(req *wire.GetCFCheckptMsg) (*wire.CFCheckptMsg, error) {
	if req.FilterType != BasicFilterType {
		return nil, ErrUnsupportedFilterType
	}
	headers, err := s.svc.GetFilterCheckpoints(req.StopHash)
	if err != nil {
		return nil, err
	}
	return &wire.CFCheckptMsg{
		FilterType:    BasicFilterType,
		StopHash:      req.StopHash,
		FilterHeaders: headers,
	}, nil
}
