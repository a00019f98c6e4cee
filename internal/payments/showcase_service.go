package payments

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"paltabrain/sdk/internal/transport"
)

type ShowcaseService interface {
	GetPricePoints(ctx context.Context, userID UserID, traceID uuid.UUID) ([]PricePoint, error)
	GetProductIDs(ctx context.Context, userID UserID, traceID uuid.UUID) ([]string, error)
}

type HTTPShowcaseService struct {
	env            Environment
	client         transport.Client
	requestContext map[string]string
}

func NewShowcaseService(env Environment, client transport.Client) *HTTPShowcaseService {
	return &HTTPShowcaseService{env: env, client: client}
}

// WithRequestContext sets the filter sent along with every showcase request.
func (s *HTTPShowcaseService) WithRequestContext(requestContext map[string]string) *HTTPShowcaseService {
	s.requestContext = requestContext
	return s
}

func (s *HTTPShowcaseService) GetPricePoints(ctx context.Context, userID UserID, traceID uuid.UUID) ([]PricePoint, error) {
	var resp GetShowcaseResponse
	payload := GetShowcaseRequest{CustomerID: userID, RequestContext: s.requestContext}
	if err := call(ctx, s.client, s.env, PathGetShowcase, traceID, payload, &resp); err != nil {
		return nil, err
	}
	if !statusOK(resp.Status) {
		return nil, serverError(resp.Status)
	}
	return resp.PricePoints, nil
}

// GetProductIDs returns the distinct store product ids of the showcase, sorted.
func (s *HTTPShowcaseService) GetProductIDs(ctx context.Context, userID UserID, traceID uuid.UUID) ([]string, error) {
	pricePoints, err := s.GetPricePoints(ctx, userID, traceID)
	if err != nil {
		return nil, err
	}
	return productIDs(pricePoints), nil
}

func productIDs(pricePoints []PricePoint) []string {
	seen := make(map[string]struct{}, len(pricePoints))
	ids := make([]string, 0, len(pricePoints))
	for _, pp := range pricePoints {
		if _, ok := seen[pp.AppStoreID]; ok {
			continue
		}
		seen[pp.AppStoreID] = struct{}{}
		ids = append(ids, pp.AppStoreID)
	}
	sort.Strings(ids)
	return ids
}
