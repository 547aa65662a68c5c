package at

const (
	// Terminal Control
	CRLF = "\r\n"

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR: "
	CmsError   = "+CMS ERROR: "

	// URCs (Unsolicited Result Codes)
	UrcReady          = "RDY"
	UrcAppReady       = "APP RDY"
	UrcPowerDown      = "NORMAL POWER DOWN"
	UrcNewMsg         = "+CMTI: "
	UrcMessageReport  = "+CDSI: "
	UrcRegistration   = "+CREG: "
	UrcSignalStrength = "+CSQ: "
	UrcCall           = "RING"
)

// MatchOK matches the final "OK" result code.
var MatchOK = Match{Prefix: OK}

// MatchAny is a catch-all match used for value-only responses such as an IMEI.
var MatchAny = Match{}

// FinalErrors returns abort matches for the final result codes that end a
// command unsuccessfully. Extended error codes are split on ',' so the
// numeric or verbose reason is available to h.
func FinalErrors(h Handler) MatchSet {
	return MatchSet{
		{Prefix: CmeError, Separators: ",", Handler: h},
		{Prefix: CmsError, Separators: ",", Handler: h},
		{Prefix: ERROR, Handler: h},
		{Prefix: NoCarrier, Handler: h},
		{Prefix: NoDialtone, Handler: h},
		{Prefix: NoAnswer, Handler: h},
		{Prefix: Busy, Handler: h},
	}
}
