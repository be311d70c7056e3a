package session

type verdictKind int

const (
	verdictValid verdictKind = iota
	verdictInvalid
	verdictStop
)

// Verdict 会话有效性检查结果: 有效、无效或要求关闭爬取
type Verdict struct {
	kind   verdictKind
	reason string
}

// Valid 会话有效
func Valid() Verdict { return Verdict{kind: verdictValid} }

// Invalid 会话无效
func Invalid() Verdict { return Verdict{kind: verdictInvalid} }

// StopCrawl 要求以指定原因关闭爬取
func StopCrawl(reason string) Verdict { return Verdict{kind: verdictStop, reason: reason} }

// VerdictOf 将布尔结果转换为检查结果
func VerdictOf(ok bool) Verdict {
	if ok {
		return Valid()
	}
	return Invalid()
}

// IsValid 会话是否有效
func (v Verdict) IsValid() bool { return v.kind == verdictValid }

// IsStop 是否要求关闭爬取
func (v Verdict) IsStop() bool { return v.kind == verdictStop }

// Reason 关闭原因,仅在 IsStop 时有意义
func (v Verdict) Reason() string { return v.reason }

func (v Verdict) String() string {
	switch v.kind {
	case verdictValid:
		return "valid"
	case verdictInvalid:
		return "invalid"
	}
	return "stop(" + v.reason + ")"
}
