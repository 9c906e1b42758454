package indicator

import (
	"fmt"
	"strings"
)

// Channel 标识一路指标输入。
type Channel string

const (
	ChannelEMA21       Channel = "ema21"
	ChannelEMA50       Channel = "ema50"
	ChannelEMA100      Channel = "ema100"
	ChannelADX         Channel = "adx"
	ChannelAO          Channel = "ao"
	ChannelCCI         Channel = "cci"
	ChannelMFI         Channel = "mfi"
	ChannelROC         Channel = "roc"
	ChannelRSI         Channel = "rsi"
	ChannelWilliamsR   Channel = "williams_r"
	ChannelKijun       Channel = "kijun"
	ChannelVolOsc      Channel = "vol_osc"
	ChannelVolume      Channel = "volume"
	ChannelPriceChange Channel = "price_change"
)

// 各指标参数。
const (
	adxPeriod      = 14
	aoFast         = 5
	aoSlow         = 25
	cciPeriod      = 20
	mfiPeriod      = 14
	rocPeriod      = 9
	rsiPeriod      = 14
	williamsPeriod = 14
	kijunPeriod    = 26
	volOscShort    = 5
	volOscLong     = 10
	ema21Period    = 21
	ema50Period    = 50
	ema100Period   = 100
)

var allChannels = []Channel{
	ChannelEMA21,
	ChannelEMA50,
	ChannelEMA100,
	ChannelADX,
	ChannelAO,
	ChannelCCI,
	ChannelMFI,
	ChannelROC,
	ChannelRSI,
	ChannelWilliamsR,
	ChannelKijun,
	ChannelVolOsc,
	ChannelVolume,
	ChannelPriceChange,
}

// AllChannels 返回全部通道，顺序即输入向量中的顺序。
func AllChannels() []Channel {
	out := make([]Channel, len(allChannels))
	copy(out, allChannels)
	return out
}

// ParseChannels 解析配置中的通道名，保持固定顺序并去重；为空时返回全部通道。
func ParseChannels(names []string) ([]Channel, error) {
	if len(names) == 0 {
		return AllChannels(), nil
	}

	wanted := make(map[Channel]bool, len(names))
	for _, name := range names {
		ch := Channel(strings.ToLower(strings.TrimSpace(name)))
		if ch == "" {
			continue
		}
		if Lookback(ch) < 0 {
			return nil, fmt.Errorf("indicator: 未知的指标通道 %q", name)
		}
		wanted[ch] = true
	}

	out := make([]Channel, 0, len(wanted))
	for _, ch := range allChannels {
		if wanted[ch] {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("indicator: 未启用任何指标通道")
	}
	return out, nil
}

// Lookback 返回通道的预热长度，即首个有效值之前的K线数量；未知通道返回 -1。
func Lookback(ch Channel) int {
	switch ch {
	case ChannelEMA21:
		return ema21Period - 1
	case ChannelEMA50:
		return ema50Period - 1
	case ChannelEMA100:
		return ema100Period - 1
	case ChannelADX:
		return 2*adxPeriod - 1
	case ChannelAO:
		return aoSlow - 1
	case ChannelCCI:
		return cciPeriod - 1
	case ChannelMFI:
		return mfiPeriod
	case ChannelROC:
		return rocPeriod
	case ChannelRSI:
		return rsiPeriod
	case ChannelWilliamsR:
		return williamsPeriod - 1
	case ChannelKijun:
		return kijunPeriod - 1
	case ChannelVolOsc:
		return volOscLong - 1
	case ChannelVolume, ChannelPriceChange:
		return 0
	default:
		return -1
	}
}
