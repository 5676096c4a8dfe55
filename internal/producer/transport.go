package producer

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/trip-planner/internal/api"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// Transport gives destination-wide transportation advice: how to get from
// the arrival hub into town and how to get around. It needs no upstream
// call and answers immediately.
type Transport struct{}

// NewTransport creates the transport producer.
func NewTransport() *Transport { return &Transport{} }

// Produce returns advice for known destinations and an empty Complete result
// for the others.
func (Transport) Produce(ctx context.Context, req types.Request) (types.PartialResult, error) {
	if err := ctx.Err(); err != nil {
		return types.PartialResult{}, err
	}

	city, ok := api.LookupCity(req.Destination)
	if !ok {
		return types.PartialResult{
			Completeness: types.CompletenessComplete,
			Payload:      types.TransportPayload{},
		}, nil
	}

	notes := []types.TransportNote{
		{
			From:        city.Gateway,
			To:          city.County + "市區",
			Mode:        ModeTransit,
			Description: fmt.Sprintf("抵達%s後可轉乘%s前往市區各處，建議購買電子票證以便轉乘。", city.Gateway, city.Transit),
		},
	}
	if req.Party.Size() >= 4 || req.Party.Children > 0 {
		notes = append(notes, types.TransportNote{
			From:        city.Gateway,
			To:          "住宿地點",
			Mode:        ModeTaxi,
			Description: fmt.Sprintf("%d人同行（含%d位兒童），攜帶行李時建議搭乘計程車或預約接送。", req.Party.Size(), req.Party.Children),
		})
	}

	return types.PartialResult{
		Completeness: types.CompletenessComplete,
		Payload:      types.TransportPayload{Notes: notes},
	}, nil
}
