package cacheerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Friendly renders an actionable, human-facing message for a CacheError.
// It is used only by the CLI wrapper (cmd/arcache) — the library itself
// never formats output for a terminal, only structured errors.
func Friendly(err error) string {
	var ce *CacheError
	if !errors.As(err, &ce) {
		return err.Error()
	}
	var sb strings.Builder
	sb.WriteString(ce.Error())
	switch ce.Kind {
	case KindChunkChecksum:
		sb.WriteString("\nHow to fix: the download was corrupted in transit; retry the operation")
	case KindChunkSize, KindSize:
		sb.WriteString("\nHow to fix: the server's response contradicted the declared size; retry, and report this if it persists")
	case KindSizeTooLarge:
		sb.WriteString("\nHow to fix: the artifact exceeds what this cache can address; split it or use a different store")
	case KindNotFound:
		sb.WriteString("\nHow to fix: the lookup succeeded but returned no archive location; retry, and report this if it persists")
	case KindServiceStatus:
		switch ce.Status {
		case 401, 403:
			sb.WriteString("\nHow to fix: check the configured bearer token and its permissions")
		case 429:
			sb.WriteString("\nHow to fix: the service is rate-limiting; it was retried per max_retries and still failed — wait and try again")
		default:
			if ce.Status >= 500 {
				sb.WriteString("\nHow to fix: the service returned a server error; try again later")
			}
		}
	case KindInvalidKeyLength:
		sb.WriteString("\nHow to fix: shorten the key to 512 bytes or fewer")
	case KindInvalidKeyComma:
		sb.WriteString("\nHow to fix: remove the comma; it is reserved as the restore-keys separator")
	}
	return fmt.Sprint(sb.String())
}
