package models

// Cart — снимок корзины, передаваемый в создание заказа:
// идентификатор товара -> количество. Сервис отклоняет пустую корзину
// и неположительные количества целиком, без частичного принятия.
type Cart map[int64]int
