package notifier

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"LotteryKeeper/internal/model"
)

// Units describes how base currency units are displayed.
type Units struct {
	Decimals int32
	Symbol   string
}

// Format renders a base-unit amount as a decimal with the unit symbol,
// e.g. 1500000000 with 9 decimals is "1.5 SOL".
func (u Units) Format(amount uint64) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -u.Decimals)
	if u.Symbol == "" {
		return d.String()
	}
	return d.String() + " " + u.Symbol
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

// FormatRoundStatus formats a lottery status for display.
func FormatRoundStatus(st *model.RoundStatus, u Units) string {
	var b strings.Builder
	c := st.Config
	b.WriteString(fmt.Sprintf("🎟 <b>Lottery round %d</b> | %s\n\n", c.Round, st.Phase))
	b.WriteString(fmt.Sprintf("Lottery: %s\n", st.Lottery))
	b.WriteString(fmt.Sprintf("Ticket price: %s\n", u.Format(c.TicketPrice)))
	b.WriteString(fmt.Sprintf("Deposited: %s (%d tickets)\n", u.Format(c.Deposited), st.Tickets))
	b.WriteString(fmt.Sprintf("Purchase pool: %s (%d bps)\n", u.Format(st.Pools.Purchase), c.PurchaseBps))
	b.WriteString(fmt.Sprintf("Owner pool: %s (%d bps)\n", u.Format(st.Pools.Owner), c.OwnerBps))
	b.WriteString(fmt.Sprintf("Custody balance: %s\n", u.Format(st.Custody)))
	b.WriteString(fmt.Sprintf("Started: %s\n", formatTime(c.RoundStart)))
	b.WriteString(fmt.Sprintf("Ends: %s\n", formatTime(c.RoundEnd)))
	if st.Phase == model.PhaseOpen {
		b.WriteString(fmt.Sprintf("Remaining: %s\n", (time.Duration(st.Remaining) * time.Second).String()))
	}
	return b.String()
}

// FormatSettlement formats the report sent after a rollover.
func FormatSettlement(s *model.Settlement, u Units) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ <b>Round %d settled</b> | %s\n\n", s.Round, formatTime(s.SettledAt)))
	b.WriteString(fmt.Sprintf("Window: %s → %s\n", formatTime(s.Start), formatTime(s.End)))
	b.WriteString(fmt.Sprintf("Deposited: %s (%d tickets)\n", u.Format(s.Deposited), s.Tickets))
	b.WriteString(fmt.Sprintf("Purchase pool: %s\n", u.Format(s.Pools.Purchase)))
	b.WriteString(fmt.Sprintf("Owner pool: %s\n", u.Format(s.Pools.Owner)))
	b.WriteString(fmt.Sprintf("\nRound %d is now open.", s.Round+1))
	return b.String()
}
