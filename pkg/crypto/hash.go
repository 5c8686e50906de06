package crypto

import "golang.org/x/crypto/bcrypt"

// HashToken хэширует admin API токен для хранения в БД
//
// bcrypt с дефолтной стоимостью: сравнение занимает ~50-100ms,
// что дополнительно ограничивает перебор
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken сравнивает токен с хэшем
func VerifyToken(token, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
