package payments

import (
	"context"

	"github.com/google/uuid"

	"paltabrain/sdk/internal/transport"
)

type FeaturesService interface {
	GetFeatures(ctx context.Context, userID UserID, traceID uuid.UUID) (PaidFeatures, error)
}

type HTTPFeaturesService struct {
	env    Environment
	client transport.Client
}

func NewFeaturesService(env Environment, client transport.Client) *HTTPFeaturesService {
	return &HTTPFeaturesService{env: env, client: client}
}

func (s *HTTPFeaturesService) GetFeatures(ctx context.Context, userID UserID, traceID uuid.UUID) (PaidFeatures, error) {
	var resp PaidFeatures
	if err := call(ctx, s.client, s.env, PathGetFeatures, traceID, GetFeaturesRequest{CustomerID: userID}, &resp); err != nil {
		return PaidFeatures{}, err
	}
	return resp, nil
}
