package zam

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("zeek.zam")
