package accounts

import (
	"os"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("CS_JWT_SECRET", "test-accounts-jwt-secret-32-chars!!")
	os.Exit(m.Run())
}
