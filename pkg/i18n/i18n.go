package i18n

import "strings"

var translations = map[string]string{
	"invalid request":                       "درخواست نامعتبر است",
	"failed to generate token":              "خطا در تولید توکن",
	"failed to get user":                    "خطا در دریافت کاربر",
	"missing authorization token":           "توکن احراز هویت ارسال نشده است",
	"invalid token":                         "توکن نامعتبر است",
	"failed to validate user":               "خطا در اعتبارسنجی کاربر",
	"user not found":                        "کاربر یافت نشد",
	"unauthorized":                          "دسترسی غیرمجاز",
	"user_id query parameter required":      "پارامتر user_id الزامی است",
	"invalid user_id":                       "user_id نامعتبر است",
	"failed to fetch messages":              "خطا در دریافت پیام ها",
	"failed to fetch conversations":         "خطا در دریافت مکالمه ها",
	"invalid message id":                    "شناسه پیام نامعتبر است",
	"cannot mark this message":              "امکان تغییر وضعیت این پیام وجود ندارد",
	"failed to update message":              "خطا در به روزرسانی پیام",
	"message not found":                     "پیام یافت نشد",
	"failed to fetch message":               "خطا در دریافت پیام",
	"can only delete own messages":          "فقط پیام های خودتان قابل حذف است",
	"failed to delete message":              "خطا در حذف پیام",
	"failed to fetch user":                  "خطا در دریافت کاربر",
	"failed to fetch users":                 "خطا در دریافت کاربران",
	"invalid email":                         "ایمیل نامعتبر است",
	"email required":                        "ایمیل الزامی است",
	"cannot send message to yourself":       "نمی توانید به خودتان پیام بفرستید",
	"receiver not found":                    "گیرنده یافت نشد",
	"message content required":              "متن پیام الزامی است",
	"message content too long":              "متن پیام بیش از حد طولانی است",
	"reply target not found":                "پیام مورد پاسخ یافت نشد",
	"failed to send message":                "خطا در ارسال پیام",
	"failed to update profile":              "خطا در به روزرسانی پروفایل",
	"failed to fetch profile":               "خطا در دریافت پروفایل",
	"failed to save subscription":           "خطا در ذخیره اشتراک اعلان",
	"failed to remove subscription":         "خطا در حذف اشتراک اعلان",
	"push notifications are not configured": "اعلان ها پیکربندی نشده اند",
	"websocket upgrade failed":              "خطا در برقراری اتصال وب سوکت",
	"rate limiter error":                    "خطا در محدودسازی درخواست ها",
	"rate limit exceeded":                   "تعداد درخواست ها بیش از حد مجاز است",
	"internal server error":                 "خطای داخلی سرور",
	"not found":                             "یافت نشد",
	"username must be between 3 and 32 characters":                "نام کاربری باید بین ۳ تا ۳۲ کاراکتر باشد",
	"username can only contain letters, numbers, and underscores": "نام کاربری فقط می تواند شامل حروف، اعداد و زیرخط باشد",
	"password must be at least 6 characters":                      "رمز عبور باید حداقل ۶ کاراکتر باشد",
	"username already exists":                                     "این نام کاربری قبلا ثبت شده است",
	"email already registered":                                    "این ایمیل قبلا ثبت شده است",
	"invalid email or password":                                   "ایمیل یا رمز عبور اشتباه است",
}

var prefixTranslations = map[string]string{
	"failed to hash password:":   "خطا در پردازش رمز عبور",
	"failed to register user:":   "خطا در ثبت نام کاربر",
	"failed to get user id:":     "خطا در دریافت شناسه کاربر",
	"failed to query user:":      "خطا در دریافت اطلاعات کاربر",
	"failed to generate token:":  "خطا در تولید توکن",
	"failed to sign token:":      "خطا در امضای توکن",
	"failed to parse token:":     "توکن نامعتبر است",
	"unexpected signing method:": "روش امضای توکن نامعتبر است",
}

func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated
		}
	}
	return message
}
