package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/moffa90/go-sdlog/internal/config"
	"github.com/moffa90/go-sdlog/nvstore"
	"github.com/moffa90/go-sdlog/nvstore/modbusstore"
	"github.com/moffa90/go-sdlog/sdcard"
	"github.com/moffa90/go-sdlog/sdsim"
	"github.com/moffa90/go-sdlog/transport/periphspi"
	"github.com/moffa90/go-sdlog/transport/serialbridge"
)

// memoryStoreSize is the size of the volatile record store.
const memoryStoreSize = 256

// session is an initialized driver plus everything to close after use.
type session struct {
	driver  *sdcard.Driver
	closers []func() error
}

func (s *session) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// open builds the transport and store from the configuration and
// initializes the card.
func (a *app) open(ctx context.Context) (*session, error) {
	s := &session{}

	bus, err := a.openTransport(s)
	if err != nil {
		s.close()
		return nil, err
	}
	store, err := a.openStore(s)
	if err != nil {
		s.close()
		return nil, err
	}

	logger := a.logger.With("component", "sdcard")
	s.driver = sdcard.New(bus, store,
		sdcard.WithLogger(logger),
		sdcard.WithClockRates(a.cfg.Clock.SlowHz, a.cfg.Clock.FastHz),
		sdcard.WithRecordAddress(a.cfg.Record.Address),
		sdcard.WithStepCallback(func(r sdcard.StepReport) {
			logger.Debug("negotiation step", "step", r.Step, "r1", r.R1, "version", r.Version)
		}),
	)

	if err := s.driver.Initialize(ctx); err != nil {
		s.close()
		return nil, err
	}
	if err := s.driver.Recovery().Err(); err != nil {
		a.logger.Warn("position record damaged, cursors restarted", "error", err)
	}
	return s, nil
}

func (a *app) openTransport(s *session) (sdcard.Transport, error) {
	t := a.cfg.Transport

	switch t.Kind {
	case config.TransportSPI:
		bus, err := periphspi.Open(periphspi.Config{
			Port:    t.SPIPort,
			CSPin:   t.CSPin,
			ClockHz: a.cfg.Clock.SlowHz,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, bus.Close)
		return bus, nil

	case config.TransportSerial:
		bus, err := serialbridge.Open(serialbridge.Config{
			Address:  t.SerialPort,
			BaudRate: t.BaudRate,
			Timeout:  a.cfg.TransportTimeout(),
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, bus.Close)
		return bus, nil

	case config.TransportSim:
		kind, err := sdsim.ParseKind(a.cfg.Sim.Kind)
		if err != nil {
			return nil, err
		}
		opts := []sdsim.Option{sdsim.WithKind(kind), sdsim.WithPages(a.cfg.Sim.Pages)}
		if a.cfg.Sim.Image != "" {
			img, err := os.OpenFile(a.cfg.Sim.Image, os.O_RDWR|os.O_CREATE, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open card image: %w", err)
			}
			s.closers = append(s.closers, img.Close)
			opts = append(opts, sdsim.WithMedia(img))
		}
		a.logger.Debug("using simulated card", "kind", kind, "pages", a.cfg.Sim.Pages, "image", a.cfg.Sim.Image)
		return sdsim.New(opts...), nil
	}

	return nil, fmt.Errorf("unknown transport %q", t.Kind)
}

func (a *app) openStore(s *session) (sdcard.Store, error) {
	st := a.cfg.Store

	switch st.Kind {
	case config.StoreFile:
		f, err := nvstore.OpenFile(st.Path)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, f.Close)
		return f, nil

	case config.StoreModbus:
		m, err := modbusstore.Open(modbusstore.Config{
			Endpoint:     st.Endpoint,
			Timeout:      a.cfg.StoreTimeout(),
			UnitID:       st.UnitID,
			BaseRegister: st.BaseRegister,
			Registers:    st.Registers,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, m.Close)
		return m, nil

	case config.StoreMemory:
		a.logger.Warn("position record kept in memory, cursors are lost on exit")
		return nvstore.NewMemory(memoryStoreSize + int(a.cfg.Record.Address)), nil
	}

	return nil, fmt.Errorf("unknown store %q", st.Kind)
}
