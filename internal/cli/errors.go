package cli

import "errors"

var errHistoryDisabled = errors.New("history requires database.url")
