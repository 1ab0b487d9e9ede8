package player

import (
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/metrics"
)

// SetParam changes a runtime parameter. Session properties (duration,
// position, dimensions, init params, datarate) are read-only; everything
// else is handled by the render engine and its sinks.
func (p *Player) SetParam(id media.Param, v any) error {
	if p.closing() {
		return ErrClosed
	}
	switch id {
	case media.ParamMediaDuration, media.ParamMediaPosition,
		media.ParamVideoWidth, media.ParamVideoHeight,
		media.ParamPlayerInitParams, media.ParamDatarateValue:
		return ErrReadOnlyParam
	}
	r := p.engine()
	if r == nil {
		return ErrNotOpen
	}
	return r.SetParam(id, v)
}

// GetParam reads a runtime parameter.
func (p *Player) GetParam(id media.Param) (any, error) {
	if p.closing() {
		return nil, ErrClosed
	}
	switch id {
	case media.ParamMediaDuration:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.duration, nil
	case media.ParamMediaPosition:
		return p.position(), nil
	case media.ParamVideoWidth:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.params.VideoWidth, nil
	case media.ParamVideoHeight:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.params.VideoHeight, nil
	case media.ParamPlayerInitParams:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.params, nil
	case media.ParamDatarateValue:
		_, _, total := p.datarate.result()
		metrics.SetDatarate(float64(total))
		return total, nil
	}
	r := p.engine()
	if r == nil {
		return nil, ErrNotOpen
	}
	return r.GetParam(id)
}

// position returns the playback position in ms from the start of the
// source. While a seek is being carried out it reports the target.
func (p *Player) position() int64 {
	p.mu.Lock()
	start := p.clk.StartTime()
	if p.status.Load()&statusFullSeek != 0 {
		target := p.seekTarget
		p.mu.Unlock()
		return max(target-start, 0)
	}
	p.mu.Unlock()

	pos := p.clk.APTS()
	if pos == -1 {
		pos = p.clk.VPTS()
	}
	if pos < 0 {
		return 0
	}
	return max(pos-start, 0)
}
