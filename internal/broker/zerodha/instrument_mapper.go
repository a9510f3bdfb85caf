package zerodha

import (
	"sync"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

type instrument struct {
	token   uint32
	lotSize float64
	tick    float64
}

// instrumentMapper maps trading symbols to instrument tokens and back.
type instrumentMapper struct {
	mu            sync.RWMutex
	bySymbol      map[string]instrument
	tokenToSymbol map[uint32]string
}

func newInstrumentMapper() *instrumentMapper {
	return &instrumentMapper{
		bySymbol:      make(map[string]instrument),
		tokenToSymbol: make(map[uint32]string),
	}
}

// load replaces the mapping with the instruments of one exchange, keeping
// only the wanted symbols.
func (im *instrumentMapper) load(all kiteconnect.Instruments, wanted []string) {
	want := make(map[string]bool, len(wanted))
	for _, s := range wanted {
		want[s] = true
	}

	bySymbol := make(map[string]instrument, len(wanted))
	tokenToSymbol := make(map[uint32]string, len(wanted))
	for _, in := range all {
		if !want[in.Tradingsymbol] {
			continue
		}
		tok := uint32(in.InstrumentToken)
		bySymbol[in.Tradingsymbol] = instrument{token: tok, lotSize: in.LotSize, tick: in.TickSize}
		tokenToSymbol[tok] = in.Tradingsymbol
	}

	im.mu.Lock()
	im.bySymbol = bySymbol
	im.tokenToSymbol = tokenToSymbol
	im.mu.Unlock()
}

func (im *instrumentMapper) get(symbol string) (instrument, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	in, ok := im.bySymbol[symbol]
	return in, ok
}

func (im *instrumentMapper) getSymbol(token uint32) string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.tokenToSymbol[token]
}

func (im *instrumentMapper) tokens(symbols []string) []uint32 {
	im.mu.RLock()
	defer im.mu.RUnlock()

	out := make([]uint32, 0, len(symbols))
	for _, s := range symbols {
		if in, ok := im.bySymbol[s]; ok {
			out = append(out, in.token)
		}
	}
	return out
}

func (im *instrumentMapper) size() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.bySymbol)
}
