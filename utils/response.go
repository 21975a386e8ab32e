package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kataras/iris/v12"
)

func CreateError(statusCode int, title string, detail string, ctx iris.Context) {
	ctx.StopWithJSON(statusCode, iris.Map{"error": title, "message": detail})
}

func CreateInternalServerError(ctx iris.Context) {
	CreateError(iris.StatusInternalServerError, "Server Error", "Something went wrong, please try again later.", ctx)
}

func CreateNotFound(ctx iris.Context) {
	CreateError(iris.StatusNotFound, "Not Found", "Resource not found.", ctx)
}

func CreateEmailAlreadyRegistered(ctx iris.Context) {
	CreateError(iris.StatusBadRequest, "Registration Error", "An account with this email already exists.", ctx)
}

// HandleValidationErrors maps body/validation failures to a 400 with one
// entry per offending field.
func HandleValidationErrors(err error, ctx iris.Context) {
	if errs, ok := err.(validator.ValidationErrors); ok {
		fields := make([]iris.Map, 0, len(errs))
		for _, e := range errs {
			fields = append(fields, iris.Map{
				"field": strings.ToLower(e.Field()),
				"rule":  e.Tag(),
			})
		}
		ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
			"error":   "Validation Error",
			"message": "One or more fields failed validation.",
			"fields":  fields,
		})
		return
	}
	CreateError(iris.StatusBadRequest, "Validation Error", err.Error(), ctx)
}
