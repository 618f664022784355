package identity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	headerPrefix    = "Sign this message to authenticate with "
	walletPrefix    = "Wallet address: "
	timestampPrefix = "Timestamp: "
)

// ChallengeMessage renders the text a wallet signs to log in. The timestamp
// is in unix milliseconds, the same unit browsers use for Date.now().
func ChallengeMessage(appName, wallet string, at time.Time) string {
	return fmt.Sprintf("%s%s\n%s%s\n%s%d", headerPrefix, appName, walletPrefix, wallet, timestampPrefix, at.UnixMilli())
}

type challenge struct {
	wallet string
	at     time.Time
}

func parseChallenge(appName, message string) (*challenge, error) {
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(message), "\r\n", "\n"), "\n")
	if len(lines) != 3 {
		return nil, fmt.Errorf("challenge must have 3 lines, got %d", len(lines))
	}
	if strings.TrimSpace(lines[0]) != headerPrefix+appName {
		return nil, fmt.Errorf("challenge is not for %s", appName)
	}
	if !strings.HasPrefix(lines[1], walletPrefix) {
		return nil, fmt.Errorf("challenge has no wallet line")
	}
	wallet, err := NormalizeWallet(strings.TrimPrefix(lines[1], walletPrefix))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(lines[2], timestampPrefix) {
		return nil, fmt.Errorf("challenge has no timestamp line")
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(lines[2], timestampPrefix)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("challenge timestamp: %v", err)
	}
	return &challenge{wallet: wallet, at: time.UnixMilli(ms)}, nil
}
