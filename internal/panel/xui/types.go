package xui

import "encoding/json"

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// apiResponse общий конверт ответов панели.
type apiResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

type clientTraffic struct {
	Email      string `json:"email"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
}

type clientSettings struct {
	Clients []clientEntry `json:"clients"`
}

type clientEntry struct {
	ID         string `json:"id"`
	Flow       string `json:"flow"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
	Reset      int    `json:"reset"`
}
