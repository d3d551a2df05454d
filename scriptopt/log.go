package scriptopt

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("zeek.scriptopt")
