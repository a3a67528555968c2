package automation

import (
	"github.com/golden-h/novelrelay/internal/protocol"
)

var messages = map[protocol.Code]string{
	protocol.CodeNotFound:              "Không tìm thấy phần tử cần thiết trên trang",
	protocol.CodeTimeout:               "Hết thời gian chờ phản hồi",
	protocol.CodeInvalidChunkState:     "Bản dịch bị thiếu phần, vui lòng thử lại",
	protocol.CodeEmptyOrInvalidPayload: "Không nhận được bản dịch từ ChatGPT",
	protocol.CodeStorageUnavailable:    "Không truy cập được bộ nhớ tạm",
	protocol.CodeInjectionFailure:      "Không thể điều khiển trang",
	protocol.CodeNoTargetTab:           "Không tìm thấy tab tiểu thuyết",
	protocol.CodeContentNotFound:       "Không tìm thấy nội dung chương",
	protocol.CodeOutOfRange:            "Phần bản dịch không hợp lệ",
	protocol.CodeIncomplete:            "Bản dịch chưa nhận đủ",
	protocol.CodeMalformedResponse:     "Phản hồi không hợp lệ",
}

// Localize turns an error into the Vietnamese message shown on the page.
func Localize(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := messages[protocol.CodeOf(err)]; ok {
		return msg
	}
	return "Lỗi không xác định: " + err.Error()
}
