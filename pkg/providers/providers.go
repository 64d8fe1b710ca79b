package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marcaudefroy/hot-api-mock/pkg/mocks"
)

// Provider registers the handlers of one backend resource.
type Provider interface {
	Register(reg mocks.Registry) error
}

// All returns the providers in their fixed bootstrap order.
func All(ds *Dataset, latency time.Duration) []Provider {
	return []Provider{
		&Summary{Dataset: ds, Latency: latency},
		&Devices{Dataset: ds, Latency: latency},
		&SettingsAPI{Dataset: ds, Latency: latency},
		&ZFS{Dataset: ds, Latency: latency},
	}
}

// RegisterAll registers every provider against reg, in order.
func RegisterAll(reg mocks.Registry, ds *Dataset, latency time.Duration) error {
	var errs []error
	for _, p := range All(ds, latency) {
		if err := p.Register(reg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// domainReply turns dataset errors into error envelopes.
func domainReply(err error) mocks.Reply {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnknownAction):
		status = http.StatusBadRequest
	}
	return mocks.Reply{Status: status, Body: failure(err.Error())}
}

func okReply[T any](data T) mocks.Reply {
	return mocks.Reply{Status: http.StatusOK, Body: succeed(data)}
}

type Summary struct {
	Dataset *Dataset
	Latency time.Duration
}

func (p *Summary) Register(reg mocks.Registry) error {
	return reg.OnGet("/api/summary").Delay(p.Latency).Reply(func(context.Context, *mocks.Request) (mocks.Reply, error) {
		return okReply(p.Dataset.Summary()), nil
	})
}

type Devices struct {
	Dataset *Dataset
	Latency time.Duration
}

func (p *Devices) Register(reg mocks.Registry) error {
	return errors.Join(
		reg.OnGet("/api/device/:wwn/details").Delay(p.Latency).Reply(p.details),
		reg.OnPost("/api/device/:wwn/:action").Delay(p.Latency).Reply(p.action),
		reg.OnDelete("/api/device/:wwn").Delay(p.Latency).Reply(p.delete),
	)
}

func (p *Devices) details(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
	details, err := p.Dataset.DeviceDetails(req.Param("wwn"))
	if err != nil {
		return domainReply(err), nil
	}
	return okReply(details), nil
}

func (p *Devices) action(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
	action, err := ParseAction(req.Param("action"))
	if err != nil {
		return domainReply(err), nil
	}
	dev, err := p.Dataset.ApplyDeviceAction(req.Param("wwn"), action)
	if err != nil {
		return domainReply(err), nil
	}
	return okReply(dev), nil
}

func (p *Devices) delete(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
	if err := p.Dataset.DeleteDevice(req.Param("wwn")); err != nil {
		return domainReply(err), nil
	}
	return mocks.Reply{Status: http.StatusOK, Body: Envelope[any]{Success: true}}, nil
}

type SettingsAPI struct {
	Dataset *Dataset
	Latency time.Duration
}

func (p *SettingsAPI) Register(reg mocks.Registry) error {
	return errors.Join(
		reg.OnGet("/api/settings").Delay(p.Latency).Reply(func(context.Context, *mocks.Request) (mocks.Reply, error) {
			return okReply(p.Dataset.Settings()), nil
		}),
		reg.OnPost("/api/settings").Delay(p.Latency).Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
			s, err := mocks.DecodeBody[Settings](req)
			if err != nil {
				return mocks.Reply{Status: http.StatusBadRequest, Body: failure(err.Error())}, nil
			}
			return okReply(p.Dataset.SaveSettings(s)), nil
		}),
	)
}

type ZFS struct {
	Dataset *Dataset
	Latency time.Duration
}

func (p *ZFS) Register(reg mocks.Registry) error {
	return errors.Join(
		reg.OnGet("/api/zfs/summary").Delay(p.Latency).Reply(func(context.Context, *mocks.Request) (mocks.Reply, error) {
			return okReply(p.Dataset.ZFSSummary()), nil
		}),
		reg.OnGet("/api/zfs/pool/{guid}/details").Delay(p.Latency).Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
			pool, err := p.Dataset.Pool(req.Param("guid"))
			if err != nil {
				return domainReply(err), nil
			}
			return okReply(pool), nil
		}),
		reg.OnPost("/api/zfs/pool/{guid}/{action}").Delay(p.Latency).Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
			action, err := ParseAction(req.Param("action"))
			if err != nil {
				return domainReply(err), nil
			}
			pool, err := p.Dataset.ApplyPoolAction(req.Param("guid"), action)
			if err != nil {
				return domainReply(err), nil
			}
			return okReply(pool), nil
		}),
		reg.OnDelete("/api/zfs/pool/{guid}").Delay(p.Latency).Reply(func(_ context.Context, req *mocks.Request) (mocks.Reply, error) {
			if err := p.Dataset.DeletePool(req.Param("guid")); err != nil {
				return domainReply(err), nil
			}
			return mocks.Reply{Status: http.StatusOK, Body: Envelope[any]{Success: true}}, nil
		}),
	)
}
