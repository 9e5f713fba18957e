package api

import (
	"io"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

var (
	contextType = reflect.TypeOf((*gin.Context)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// validateFuncType accepts handlers shaped like
//
//	func(*gin.Context[, *Req]) ([Resp, ]error)
//
// where Req is a struct decoded from the JSON body.
func validateFuncType(fun interface{}) error {
	ft := reflect.TypeOf(fun)
	if ft == nil || ft.Kind() != reflect.Func || ft.IsVariadic() {
		return errors.New("need a non-variadic func")
	}

	if ft.NumIn() < 1 || ft.NumIn() > 2 || ft.In(0) != contextType {
		return errors.New("need *gin.Context as the first input")
	}

	if ft.NumIn() == 2 && (ft.In(1).Kind() != reflect.Ptr || ft.In(1).Elem().Kind() != reflect.Struct) {
		return errors.New("request input must be a pointer to struct")
	}

	if ft.NumOut() < 1 || ft.NumOut() > 2 || ft.Out(ft.NumOut()-1) != errorType {
		return errors.New("need error as the last output")
	}
	return nil
}

func handlerMiddleware(handleFunc interface{}) gin.HandlerFunc {
	if err := validateFuncType(handleFunc); err != nil {
		panic(err)
	}

	fn := reflect.ValueOf(handleFunc)
	ft := fn.Type()
	return func(c *gin.Context) {
		args := []reflect.Value{reflect.ValueOf(c)}
		if ft.NumIn() == 2 {
			req := reflect.New(ft.In(1).Elem())
			if err := c.ShouldBindJSON(req.Interface()); err != nil && err != io.EOF {
				RespondErrorResp(c, errors.Wrap(errBadRequest, err.Error()), nil)
				return
			}
			args = append(args, req)
		}

		results := fn.Call(args)
		var data interface{}
		if len(results) == 2 && !results[0].IsZero() {
			data = results[0].Interface()
		}

		if errVal := results[len(results)-1]; !errVal.IsNil() {
			RespondErrorResp(c, errVal.Interface().(error), data)
			return
		}

		RespondSuccessResp(c, data)
	}
}
