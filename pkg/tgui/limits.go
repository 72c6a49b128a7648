package tgui

import "errors"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

// MaxMessageLen is Telegram's text limit for one message, in UTF-16 code units.
const MaxMessageLen = 4096

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
