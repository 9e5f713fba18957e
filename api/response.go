package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const successCode = 200

type response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// formatErrResp maps the root cause of err to a response code.
func formatErrResp(err error) response {
	// default error response
	resp := response{
		Code: 300,
		Msg:  "request error",
	}

	root := errors.Cause(err)
	if errCode, ok := respErrFormatter[root]; ok {
		resp.Code = errCode
		resp.Msg = err.Error()
	}
	return resp
}

// RespondErrorResp replies with the error's code. data, when not nil, is the
// state the failed request left behind.
func RespondErrorResp(c *gin.Context, err error, data interface{}) {
	resp := formatErrResp(err)
	resp.Data = data

	entry := log.WithFields(log.Fields{"module": logModule, "url": c.Request.URL, "code": resp.Code, "err": err})
	if resp.Code >= 500 || resp.Code == 300 {
		entry.Error("request fail")
	} else {
		entry.Warn("request rejected")
	}

	c.Set(respCodeLabel, resp.Code)
	c.AbortWithStatusJSON(http.StatusOK, resp)
}

func RespondSuccessResp(c *gin.Context, data interface{}) {
	c.Set(respCodeLabel, successCode)
	c.AbortWithStatusJSON(http.StatusOK, response{Code: successCode, Msg: "success", Data: data})
}
