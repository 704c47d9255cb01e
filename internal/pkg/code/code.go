package code

// 响应体中的业务码
const (
	Success    = 0
	ParamErr   = 40000
	NotFound   = 40400
	Busy       = 40900
	Forbidden  = 40300
	BackendErr = 50200
)

const (
	MsgSuccess  = "success"
	MsgParamErr = "参数错误"
	MsgNotFound = "会话不存在"
	MsgBusy     = "上一条消息还在回答中"
	MsgReadOnly = "只读模式，不能继续发送"
	MsgBackend  = "后端服务异常"
)
