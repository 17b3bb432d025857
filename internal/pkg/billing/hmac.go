package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
)

// SignItem computes the notification-item signature: the signing string is
// the colon-joined sequence pspReference:originalReference:
// merchantAccountCode:merchantReference:amountValue:currency:eventCode:
// success, HMAC-SHA256 keyed with the hex-decoded secret, base64-encoded.
// Backslashes and colons inside field values are escaped before joining.
func SignItem(item *NotificationRequestItem, hmacKey string) (string, error) {
	key, err := hex.DecodeString(hmacKey)
	if err != nil {
		return "", err
	}

	payload := strings.Join([]string{
		escapeHMACField(item.PspReference),
		escapeHMACField(item.OriginalReference),
		escapeHMACField(item.MerchantAccountCode),
		escapeHMACField(item.MerchantReference),
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		strings.ToLower(item.Success),
	}, ":")

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyItemHMAC checks the item's hmacSignature against every configured
// key. All keys are tried so rotated-out signatures keep verifying against
// the older keys; one match accepts the item.
func VerifyItemHMAC(item *NotificationRequestItem, hmacKeys []string) bool {
	signature := item.AdditionalData["hmacSignature"]
	if signature == "" {
		return false
	}

	valid := false
	for _, key := range hmacKeys {
		expected, err := SignItem(item, key)
		if err != nil {
			continue
		}
		if hmac.Equal([]byte(expected), []byte(signature)) {
			valid = true
		}
	}
	return valid
}

func escapeHMACField(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, ":", `\:`)
}
